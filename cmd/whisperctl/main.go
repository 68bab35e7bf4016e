// whisperctl sends fault-injection commands to a whisperd root.
package main

import "github.com/kabili207/whisper-go/cmd/whisperctl/commands"

func main() {
	commands.Execute()
}
