package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate(1, "2025-05-01", 35.00, "麦当劳", "")
	b := Generate(1, "2025-05-01", 35.00, "麦当劳", "")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestGenerateNormalizesAmount(t *testing.T) {
	base := Generate(1, "2025-05-01", 50, "买菜", "")
	assert.Equal(t, base, Generate(1, "2025-05-01", 50.00, "买菜", ""))
	assert.Equal(t, base, Generate(1, "2025-05-01", 50.004, "买菜", ""))
	assert.NotEqual(t, base, Generate(1, "2025-05-01", 50.01, "买菜", ""))
}

func TestGenerateSensitivity(t *testing.T) {
	base := Generate(1, "2025-05-01", 35.00, "麦当劳", "美团")

	assert.NotEqual(t, base, Generate(2, "2025-05-01", 35.00, "麦当劳", "美团"))
	assert.NotEqual(t, base, Generate(1, "2025-05-02", 35.00, "麦当劳", "美团"))
	assert.NotEqual(t, base, Generate(1, "2025-05-01", 36.00, "麦当劳", "美团"))
	assert.NotEqual(t, base, Generate(1, "2025-05-01", 35.00, "肯德基", "美团"))
	assert.NotEqual(t, base, Generate(1, "2025-05-01", 35.00, "麦当劳", "饿了么"))
}

func TestGenerateEmptyOptionalFields(t *testing.T) {
	withEmpty := Generate(1, "2025-05-01", 35.00, "", "")
	assert.Len(t, withEmpty, 32)
	assert.NotEqual(t, withEmpty, Generate(1, "2025-05-01", 35.00, "x", ""))
}
