// cmd/tools/registry-updater/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"admissions-portal/internal/forms/steps"
	"admissions-portal/internal/models"
	"admissions-portal/pkg/registry"
)

var registryPath string

func main() {
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{initCmd, updateCmd, validateCmd} {
		fs.StringVar(&registryPath, "path", "configs/step-registry.json", "Path to registry file")
	}
	force := initCmd.Bool("force", false, "Overwrite an existing registry file")

	// Update command flags
	fieldPath := updateCmd.String("field", "", "Dotted field path (e.g., references.contacts)")
	attr := updateCmd.String("set", "", "Rule attribute to change (kind, label, minItems)")
	value := updateCmd.String("value", "", "New value for the attribute")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		initCmd.Parse(os.Args[2:])
		if err := initRegistry(*force); err != nil {
			fmt.Printf("Error writing registry: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote built-in steps to %s\n", registryPath)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *fieldPath == "" || *attr == "" || *value == "" {
			fmt.Println("Error: field, set, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateField(*fieldPath, *attr, *value); err != nil {
			fmt.Printf("Error updating field: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated field %s, %s to %s\n", *fieldPath, *attr, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validateRegistry(); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func initRegistry(force bool) error {
	if _, err := os.Stat(registryPath); err == nil && !force {
		return fmt.Errorf("%s already exists, use -force to overwrite", registryPath)
	}
	reg := registry.FromCatalog(steps.Current(), time.Now().Format(time.RFC3339))
	return reg.Save(registryPath)
}

func updateField(path, attr, value string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if reg.Fields == nil {
		reg.Fields = map[string]models.FieldRule{}
	}

	rule := reg.Fields[path]
	switch attr {
	case "kind":
		rule.Kind = models.FieldKind(value)
	case "label":
		rule.Label = value
	case "minItems":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid minItems value: %w", err)
		}
		rule.MinItems = n
		if rule.Kind == "" {
			rule.Kind = models.FieldKindList
		}
	default:
		return fmt.Errorf("unknown attribute: %s", attr)
	}
	reg.Fields[path] = rule

	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return reg.Save(registryPath)
}

func validateRegistry() error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	c, err := reg.Catalog()
	if err != nil {
		return err
	}

	fmt.Printf("Registry validation passed. Found %d steps (%d required).\n", c.TotalSteps(), len(c.Required()))
	return nil
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  init     Write the built-in admission steps to a registry file
  update   Change one field rule
  validate Validate the registry file
  help     Show this help message

Examples:
  registry-updater init -path configs/step-registry.json
  registry-updater update -field references.contacts -set minItems -value 3
  registry-updater validate -path configs/step-registry.json

Use 'registry-updater <command> -h' for more information about a command.
`, "\n")
}
