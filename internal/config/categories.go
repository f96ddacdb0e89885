package config

import "fmt"

// validateCategories ensures category names are usable as container file names
// (alphanumeric characters and underscores only) and unique, including against
// the web resource container.
func validateCategories(categories []Category, webContainer string) error {
	seen := map[string]bool{}
	if webContainer != "" {
		if err := validateContainerName(webContainer); err != nil {
			return err
		}
		seen[webContainer] = true
	}

	for _, category := range categories {
		if err := validateContainerName(category.Name); err != nil {
			return err
		}
		if seen[category.Name] {
			return fmt.Errorf("duplicate container name '%s'", category.Name)
		}
		seen[category.Name] = true

		if category.Manifest == "" {
			return fmt.Errorf("category '%s' has no manifest", category.Name)
		}
	}
	return nil
}

func validateContainerName(name string) error {
	if name == "" {
		return fmt.Errorf("container name cannot be empty")
	}

	for _, char := range name {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_') {
			return fmt.Errorf("invalid container name '%s': contains invalid character '%c', only alphanumeric characters and underscores are allowed", name, char)
		}
	}
	return nil
}
