// Command smog is the front end for the interpreter: a subcommands-based
// CLI that parses, compiles, and runs smog source, plus a readline-backed
// REPL and a disassembler for inspecting the bytecode a program compiles
// to.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/google/subcommands"

	"github.com/smogvm/smog/pkg/ast"
	"github.com/smogvm/smog/pkg/bytecode"
	"github.com/smogvm/smog/pkg/compiler"
	"github.com/smogvm/smog/pkg/ident"
	"github.com/smogvm/smog/pkg/parser"
	"github.com/smogvm/smog/pkg/vm"
)

const version = "0.1.0"

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&replCmd{}, "")
	subcommands.Register(&disasmCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

// loadAndCompile reads filename, parses it, and compiles the result,
// sharing one identifier table across both passes.
func loadAndCompile(filename string) (bytecode.ISeq, ast.LocMap, int, *ident.Table, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, 0, nil, err
	}
	idents := ident.New()
	top, err := parser.New(string(src), idents).Parse()
	if err != nil {
		return nil, nil, 0, nil, err
	}
	seq, locs, err := compiler.Compile(top, idents)
	if err != nil {
		return nil, nil, 0, nil, err
	}
	return seq, locs, len(top.LvarTable), idents, nil
}

type runCmd struct{}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "parse, compile, and execute a source file" }
func (*runCmd) Usage() string {
	return "run <file>\n  Parse, compile, and execute a smog source file.\n"
}
func (*runCmd) SetFlags(*flag.FlagSet) {}

func (c *runCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	seq, locs, numLocals, idents, err := loadAndCompile(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if _, err := vm.New(idents).Run(seq, locs, numLocals); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type disasmCmd struct{}

func (*disasmCmd) Name() string     { return "disasm" }
func (*disasmCmd) Synopsis() string { return "print the bytecode a file compiles to" }
func (*disasmCmd) Usage() string {
	return "disasm <file>\n  Parse and compile a source file, printing its instruction sequence.\n" +
		"  No on-disk bytecode format is persisted; this always recompiles from source.\n"
}
func (*disasmCmd) SetFlags(*flag.FlagSet) {}

func (c *disasmCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	seq, _, _, idents, err := loadAndCompile(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(bytecode.Disassemble(seq, idents))
	return subcommands.ExitSuccess
}

type versionCmd struct{}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "print the interpreter version" }
func (*versionCmd) Usage() string          { return "version\n  Print the interpreter version.\n" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}
func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Println("smog", version)
	return subcommands.ExitSuccess
}

type replCmd struct{}

func (*replCmd) Name() string     { return "repl" }
func (*replCmd) Synopsis() string { return "start an interactive read-eval-print loop" }
func (*replCmd) Usage() string {
	return "repl\n  Start an interactive session. Each line is parsed, compiled, and run\n" +
		"  against one VM shared by the whole session; its result is printed unless it's nil.\n"
}
func (*replCmd) SetFlags(*flag.FlagSet) {}

// Execute runs the REPL. Each line is its own parse and its own
// compile — there's no incremental compiler, so local variables don't
// survive past the line that assigned them — but the identifier table
// and the VM itself are shared across the whole session, so constants
// (X = 1) and the VM's builtin registry persist line to line the way a
// user typing at a prompt expects.
func (c *replCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "smog> ",
		HistoryFile:     historyFilePath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer rl.Close()

	idents := ident.New()
	interp := vm.New(idents)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return subcommands.ExitSuccess
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		if line == "" {
			continue
		}
		evalLine(idents, interp, line)
	}
}

func evalLine(idents *ident.Table, interp *vm.VM, line string) {
	top, err := parser.New(line, idents).Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	seq, locs, err := compiler.Compile(top, idents)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	result, err := interp.Run(seq, locs, len(top.LvarTable))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	if !result.IsNil() {
		fmt.Println("=>", result.ToDisplayString())
	}
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.smog_history"
}
