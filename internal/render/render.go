package render

import (
	"fmt"
	"strings"

	"github.com/soaringjerry/Gatepass/internal/services"
)

// ForFormat picks the ticket renderer for a configured format.
func ForFormat(format string) (services.DocumentRenderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "pdf":
		return NewPDFRenderer(), nil
	case "png":
		return NewPNGRenderer(), nil
	}
	return nil, fmt.Errorf("unsupported ticket format %q", format)
}
