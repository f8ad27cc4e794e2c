// Command mds serves annotation metadata: packages, media, annotations and
// annotation types, addressed by nested resource paths.
package main

import (
	"github.com/nimburion/mds/pkg/cli"
)

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        "mds",
		Description: "Annotation metadata server",
	}))
}
