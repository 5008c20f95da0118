package verify

// DefaultPassages are the texts offered for read-aloud verification.
var DefaultPassages = []string{
	"The time I gave to this task is finished, and I am ready to stop.",
	"I set a goal, I kept my focus, and now I let the work rest.",
	"Every session ends. This one ends now, and I end it on purpose.",
	"I will stand up, breathe slowly, and look at something far away.",
	"Done is better than perfect. I am closing this block of time.",
}
