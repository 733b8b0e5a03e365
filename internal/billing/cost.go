package billing

import "regexp"

var wordPattern = regexp.MustCompile(`\w+`)

// CountWords returns the number of word tokens in s, the measure used for
// word-costed tools.
func CountWords(s string) int64 {
	return int64(len(wordPattern.FindAllString(s, -1)))
}

// PixelArea returns the usage measure for an image of the given dimensions.
func PixelArea(width, height int) int64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	return int64(width) * int64(height)
}
