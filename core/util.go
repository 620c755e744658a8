package core

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// NewID returns a fresh document id.
func NewID() string {
	return uuid.NewString()
}

// FormatTime renders seconds as MM:SS.
func FormatTime(sec float64) string {
	sec = math.Max(sec, 0)
	m := int(sec) / 60
	s := int(sec) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}
