package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Template seeded into new definitions.
const definitionTemplate = "#!/bin/sh\n\n"

// Represents the 'boxkit create' command.
type CreateCmd struct {
	Name string `arg:"" help:"Name of the definition to create."`
}

// Executes the create command.
//
// Refuses names that already exist, seeds a shebang template, and opens
// the file in $EDITOR.
func (c *CreateCmd) Run(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	path, err := store.Create(c.Name, definitionTemplate)
	if err != nil {
		return err
	}

	fmt.Println(path)
	return openEditor(ctx, path)
}

// Represents the 'boxkit edit' command.
type EditCmd struct {
	Name string `arg:"" help:"Name of the definition to edit."`
}

// Executes the edit command.
func (c *EditCmd) Run(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	def, err := store.Resolve(c.Name)
	if err != nil {
		return err
	}

	return openEditor(ctx, def.Path)
}

// Represents the 'boxkit delete' command.
type DeleteCmd struct {
	Name string `arg:"" help:"Name of the definition to delete."`
	Yes  bool   `short:"y" help:"Skip the confirmation prompt."`
}

// Executes the delete command.
func (c *DeleteCmd) Run(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	def, err := store.Resolve(c.Name)
	if err != nil {
		return err
	}

	if !c.Yes && !confirm(fmt.Sprintf("delete %s?", def.Path)) {
		return nil
	}

	return store.Delete(c.Name)
}

// Represents the 'boxkit list' command.
type ListCmd struct{}

// Executes the list command.
func (c *ListCmd) Run(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	defs, err := store.List()
	if err != nil {
		return err
	}

	for _, def := range defs {
		deps := ""
		if len(def.DependsOn()) > 0 {
			deps = " <- " + strings.Join(def.DependsOn(), ", ")
		}
		fmt.Printf("%s (%s)%s\n", def.Name, def.Kind, deps)
	}
	return nil
}

// Opens a file in the user's editor, falling back to vi.
func openEditor(ctx context.Context, path string) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	cmd := exec.CommandContext(ctx, editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Asks a yes/no question on the terminal.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
