// The main package for the linkaudit executable.
package main

import (
	"github.com/JakeFAU/metafield-link-auditor/cmd"
)

func main() {
	cmd.Execute()
}
