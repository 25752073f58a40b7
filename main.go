// The main package for the xkcd-mirror executable.
package main

import "github.com/JakeFAU/xkcd-mirror/cmd"

func main() {
	cmd.Execute()
}
