package provider

import "fmt"

// ProviderNotFoundError is returned when a model reference names a provider
// that is not registered.
type ProviderNotFoundError struct {
	Provider string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("Provider %q not found", e.Provider)
}

// ModelNotFoundError is returned when a provider does not advertise the
// requested model.
type ModelNotFoundError struct {
	Provider string
	Model    string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("Model %q not found for provider %q", e.Model, e.Provider)
}
