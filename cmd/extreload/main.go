// Command extreload reloads browser extensions while they are being built.
//
// A typical setup runs the host next to the bundler and the relay next to
// the browser:
//
//	extreload serve --context . --stats dist/stats.json --build "npm run build" --out dist
//	extreload relay --manifest-file dist/manifest.json --reload-command "./reload.sh"
package main

import (
	"os"

	"github.com/hupe1980/extreload/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
