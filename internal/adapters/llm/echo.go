package llm

import "context"

// EchoGenerator returns the request unchanged. It backs dry runs.
type EchoGenerator struct{}

// Name implements core.Generator.
func (EchoGenerator) Name() string { return ProviderEcho }

// Generate implements core.Generator.
func (EchoGenerator) Generate(ctx context.Context, request string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return request, nil
}
