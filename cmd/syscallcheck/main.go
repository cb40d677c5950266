// Command syscallcheck statically verifies that sysdispatch's syscall
// dispatch table has exactly one case per declared Sys* constant, with
// no stray cases and nothing left undispatched. It is the spiritual
// successor of the teacher's misc/depgraph: a small go/packages-backed
// analysis tool shipped next to the kernel rather than a runtime check.
package main

import (
	"fmt"
	"go/ast"
	"log"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

const syscallConstPrefix = "Sys"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
	}
	pkgs, err := packages.Load(cfg, "sysdispatch")
	if err != nil {
		return fmt.Errorf("loading sysdispatch: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("sysdispatch failed to typecheck")
	}
	if len(pkgs) != 1 {
		return fmt.Errorf("expected exactly one package, got %d", len(pkgs))
	}
	pkg := pkgs[0]

	declared := declaredSyscalls(pkg)
	cased, err := dispatchedSyscalls(pkg)
	if err != nil {
		return err
	}

	var missing, stray []string
	for name := range declared {
		if !cased[name] {
			missing = append(missing, name)
		}
	}
	for name := range cased {
		if !declared[name] {
			stray = append(stray, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(stray)

	if len(missing) == 0 && len(stray) == 0 {
		fmt.Printf("ok: %d syscalls, each with exactly one dispatch case\n", len(declared))
		return nil
	}
	if len(missing) > 0 {
		fmt.Printf("missing dispatch case(s): %s\n", strings.Join(missing, ", "))
	}
	if len(stray) > 0 {
		fmt.Printf("dispatch case(s) with no matching constant: %s\n", strings.Join(stray, ", "))
	}
	os.Exit(1)
	return nil
}

// declaredSyscalls returns the set of exported constant names in
// sysdispatch beginning with "Sys", the syscall number table spec
// §4.E names.
func declaredSyscalls(pkg *packages.Package) map[string]bool {
	out := map[string]bool{}
	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		if !strings.HasPrefix(name, syscallConstPrefix) {
			continue
		}
		out[name] = true
	}
	return out
}

// dispatchedSyscalls walks the Dispatch function's switch statement
// and returns the set of case identifiers it matches against f.RAX.
func dispatchedSyscalls(pkg *packages.Package) (map[string]bool, error) {
	var sw *ast.SwitchStmt
	for _, file := range pkg.Syntax {
		ast.Inspect(file, func(n ast.Node) bool {
			fn, ok := n.(*ast.FuncDecl)
			if !ok || fn.Name.Name != "Dispatch" {
				return true
			}
			ast.Inspect(fn.Body, func(inner ast.Node) bool {
				if s, ok := inner.(*ast.SwitchStmt); ok && sw == nil {
					sw = s
				}
				return sw == nil
			})
			return false
		})
	}
	if sw == nil {
		return nil, fmt.Errorf("no switch statement found in Dispatch")
	}

	out := map[string]bool{}
	for _, stmt := range sw.Body.List {
		clause, ok := stmt.(*ast.CaseClause)
		if !ok {
			continue
		}
		for _, expr := range clause.List {
			id, ok := expr.(*ast.Ident)
			if !ok {
				continue
			}
			out[id.Name] = true
		}
	}
	return out, nil
}
