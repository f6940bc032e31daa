//go:build tools

package reconos

// Pin the static checker run by CI to the version in go.mod.
import _ "honnef.co/go/tools/cmd/staticcheck"
