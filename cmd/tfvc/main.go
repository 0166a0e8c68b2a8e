// Command tfvc is a Team Foundation Version Control client.
package main

import "github.com/bolasblack/tfvc/internal/cli"

func main() {
	cli.Execute()
}
