// Command finaldream drives local image generation and follows the output
// folder as images appear.
package main

import "github.com/TohruskyDev/FinalDream/cmd"

func main() {
	cmd.Execute()
}
