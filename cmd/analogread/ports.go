package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/NWU-FAE/analogRead-SEK/pkg/bridge"
	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
)

// portChoices builds select options for ports, mapping display names to port
// names. current is added when it is not among ports.
func portChoices(ports []bridge.Port, current string) ([]string, map[string]string, string) {
	options := make([]string, 0, len(ports)+1)
	names := make(map[string]string, len(ports)+1)
	selected := ""

	for _, port := range ports {
		display := port.Name
		if port.Description != "" && port.Description != port.Name {
			display = fmt.Sprintf("%s (%s)", port.Name, port.Description)
		}
		options = append(options, display)
		names[display] = port.Name
		if port.Name == current {
			selected = display
		}
	}

	if selected == "" && current != "" {
		options = append(options, current)
		names[current] = current
		selected = current
	}
	return options, names, selected
}

// supplyChoices lists the bridge supply options as "3.3V", "5V".
func supplyChoices() []string {
	result := make([]string, len(config.SupplyOptions))
	for i, v := range config.SupplyOptions {
		result[i] = formatSupply(v)
	}
	return result
}

func formatSupply(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "V"
}

func parseSupply(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "V"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid supply %q", s)
	}
	if !config.ValidSupply(v) {
		return 0, fmt.Errorf("unsupported supply %q", s)
	}
	return v, nil
}

// parseRate parses a sampling rate in Hz. Range clamping is left to the
// sampler.
func parseRate(s string) (float64, error) {
	hz, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(hz) {
		return 0, fmt.Errorf("invalid sampling rate %q", s)
	}
	return hz, nil
}
