package catalog

var defaultItems = []Item{
	{
		ID:                     "ankle-circles",
		Name:                   "Ankle Circles",
		Instructions:           "Sit tall with your feet flat. Lift one foot and draw a circle with your big toe 10 times clockwise and 10 times counterclockwise, then switch feet.",
		DefaultIntervalMinutes: 30,
	},
	{
		ID:                     "seated-heel-toe-rocks",
		Name:                   "Seated Heel-Toe Rocks",
		Instructions:           "Sit tall with both feet flat. Lift your heels, lower them, then lift your toes and lower them. Rock between heels and toes 10-15 times.",
		DefaultIntervalMinutes: 30,
	},
	{
		ID:                     "calf-raises",
		Name:                   "Calf Raises",
		Instructions:           "Stand and rise up on your toes, hold for 2 seconds, then lower. Repeat 10-15 times to strengthen calf muscles and promote circulation.",
		DefaultIntervalMinutes: 30,
	},
	{
		ID:                     "seated-knee-extensions",
		Name:                   "Seated Knee Extensions",
		Instructions:           "While seated, straighten one knee to extend your leg, hold for 3 seconds, then lower. Alternate legs for 10 repetitions each to engage quadriceps and improve blood flow.",
		DefaultIntervalMinutes: 30,
	},
	{
		ID:                     "hip-circles",
		Name:                   "Hip Circles",
		Instructions:           "Stand and make circular motions with your hips, 10 circles in each direction. This mobilizes hip joints and activates gluteal muscles to prevent stiffness.",
		DefaultIntervalMinutes: 30,
	},
	{
		ID:                     "leg-swings",
		Name:                   "Leg Swings",
		Instructions:           "Stand on one leg and swing the other leg forward and backward 10 times, then switch legs. This dynamic movement improves circulation and hip mobility.",
		DefaultIntervalMinutes: 30,
	},
	{
		ID:                     "hydration",
		Name:                   "Hydration",
		Instructions:           "Time to hydrate: take a few sips of water. Drink regularly throughout the day.",
		DefaultIntervalMinutes: 60,
	},
}
