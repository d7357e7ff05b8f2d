// Command ragctl inspects and maintains the reference document index.
package main

import (
	"context"
	"os"

	"github.com/grantdraft/grantdraft/pkg/config"
)

func main() {
	c := &cli{load: config.Load}
	root := c.root()
	root.SetOut(os.Stdout)
	if err := c.execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}
