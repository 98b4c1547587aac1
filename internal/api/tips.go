package api

import "math/rand/v2"

// Tips are the quick tips offered next to generated recommendations.
var Tips = []string{
	"Great job! Your carbon footprint is below average. Keep up the sustainable habits!",
	"Your transportation choices are eco-friendly. Consider carpooling to reduce emissions further.",
	"Excellent energy usage patterns. Try switching to LED bulbs for even more savings.",
	"Your diet choices are sustainable. Consider reducing meat consumption to lower your carbon footprint.",
	"Your shopping habits are environmentally conscious. Keep supporting local and sustainable products.",
	"Your daily habits are making a positive impact. Consider using reusable containers to reduce waste.",
	"Your energy consumption is efficient. Try using natural light during the day to save more energy.",
	"Your transportation emissions are low. Consider biking or walking for short distances.",
	"Your waste management is effective. Try composting organic waste to reduce landfill contribution.",
	"Your water usage is sustainable. Consider installing low-flow fixtures to conserve more water.",
}

// RandomTip returns one of Tips.
func RandomTip() string {
	return Tips[rand.IntN(len(Tips))]
}
