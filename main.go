package main

import "github.com/nextlevelbuilder/voiceclaw/cmd"

func main() {
	cmd.Execute()
}
