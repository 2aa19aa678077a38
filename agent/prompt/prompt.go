// Package prompt carries the system prompts as embedded templates so the
// binaries ship them without a runtime asset path.
package prompt

import (
	"embed"
	"strings"
)

//go:embed template/*.txt
var templates embed.FS

var (
	Orchestrator = mustLoad("orchestrator")
	Order        = mustLoad("order")
	GeneralInfo  = mustLoad("general_info")
	Synthesis    = mustLoad("synthesis")
	Judge        = mustLoad("judge")
)

func mustLoad(name string) string {
	raw, err := templates.ReadFile("template/" + name + ".txt")
	if err != nil {
		panic("prompt: missing template " + name + ": " + err.Error())
	}
	return strings.TrimSpace(string(raw))
}
