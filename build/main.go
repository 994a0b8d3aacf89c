package main

import (
	"os"
	"os/exec"

	"github.com/goyek/goyek/v2"
)

// goCmd runs a go subcommand, streaming its output to the task.
func goCmd(a *goyek.A, args ...string) {
	a.Log("go ", args)
	cmd := exec.CommandContext(a.Context(), "go", args...)
	cmd.Stdout = a.Output()
	cmd.Stderr = a.Output()
	if err := cmd.Run(); err != nil {
		a.Error(err)
	}
}

var vet = goyek.Define(goyek.Task{
	Name:  "vet",
	Usage: "Run go vet on all packages",
	Action: func(a *goyek.A) {
		goCmd(a, "vet", "./...")
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "Run unit tests (git transport tests are skipped)",
	Action: func(a *goyek.A) {
		goCmd(a, "test", "-race", "-short", "./...")
	},
})

var integration = goyek.Define(goyek.Task{
	Name:  "integration",
	Usage: "Run all tests including git transport tests",
	Action: func(a *goyek.A) {
		goCmd(a, "test", "-race", "./...")
	},
})

var build = goyek.Define(goyek.Task{
	Name:  "build",
	Usage: "Build the repowatch binary into bin/",
	Action: func(a *goyek.A) {
		goCmd(a, "build", "-o", "bin/repowatch", "./cmd/repowatch")
	},
})

var _ = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "Run vet, test and build",
	Deps:  goyek.Deps{vet, test, build},
})

func main() {
	goyek.SetDefault(test)
	goyek.Main(os.Args[1:])
}
