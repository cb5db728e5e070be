package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "8gBm/:&EnhH.1/q"

func testFields() []Field {
	return RequestFields("100", "11-201-13", "EPAYTEST")
}

func TestCanonical(t *testing.T) {
	assert.Equal(t,
		"total_amount=100,transaction_uuid=11-201-13,product_code=EPAYTEST",
		Canonical(testFields()),
	)
}

func TestFieldNames(t *testing.T) {
	assert.Equal(t, "total_amount,transaction_uuid,product_code", FieldNames(testFields()))
}

func TestEngine_Sign(t *testing.T) {
	engine := NewEngine(testSecret)

	t.Run("matches known vector", func(t *testing.T) {
		sig := engine.SignFields(testFields())
		assert.Equal(t, "5DZywcrTKD0gia/rsSMcrRHmJl+4Tbol6S+lWgdJ94E=", sig)
	})

	t.Run("field order changes the signature", func(t *testing.T) {
		fields := testFields()
		permuted := []Field{fields[1], fields[0], fields[2]}
		assert.NotEqual(t, engine.SignFields(fields), engine.SignFields(permuted))
	})

	t.Run("different secret changes the signature", func(t *testing.T) {
		other := NewEngine("another-secret")
		assert.NotEqual(t, engine.SignFields(testFields()), other.SignFields(testFields()))
	})
}

func TestEngine_Verify(t *testing.T) {
	engine := NewEngine(testSecret)

	t.Run("round trip succeeds", func(t *testing.T) {
		canonical := Canonical(testFields())
		sig := engine.Sign(canonical)
		assert.True(t, engine.Verify(canonical, sig))
	})

	t.Run("rejects any single character flip", func(t *testing.T) {
		canonical := Canonical(testFields())
		sig := engine.Sign(canonical)
		require.NotEmpty(t, sig)

		for i := 0; i < len(sig); i++ {
			flipped := []byte(sig)
			if flipped[i] == 'A' {
				flipped[i] = 'B'
			} else {
				flipped[i] = 'A'
			}
			assert.False(t, engine.Verify(canonical, string(flipped)),
				"flipped position %d should not verify", i)
		}
	})

	t.Run("rejects permuted field order", func(t *testing.T) {
		fields := testFields()
		sig := engine.SignFields(fields)
		permuted := []Field{fields[2], fields[1], fields[0]}
		assert.False(t, engine.VerifyFields(permuted, sig))
	})

	t.Run("rejects missing field", func(t *testing.T) {
		fields := testFields()
		sig := engine.SignFields(fields)
		assert.False(t, engine.VerifyFields(fields[:2], sig))
	})

	t.Run("rejects invalid base64", func(t *testing.T) {
		assert.False(t, engine.Verify(Canonical(testFields()), "not-base64!!!"))
	})

	t.Run("rejects empty signature", func(t *testing.T) {
		assert.False(t, engine.Verify(Canonical(testFields()), ""))
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		sig := NewEngine("another-secret").SignFields(testFields())
		assert.False(t, engine.VerifyFields(testFields(), sig))
	})
}
