package midirpc

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureStdout(t *testing.T) {
	real := os.Stdout
	restore, err := captureStdout()
	require.NoError(t, err)
	fmt.Println("hello")
	fmt.Print("world")
	got := restore()
	assert.Equal(t, "hello\nworld", got)
	assert.Same(t, real, os.Stdout)
}

func TestCaptureStdout_Empty(t *testing.T) {
	restore, err := captureStdout()
	require.NoError(t, err)
	assert.Equal(t, "", restore())
}

func TestCaptureStdout_Sequential(t *testing.T) {
	for i := 0; i < 3; i++ {
		restore, err := captureStdout()
		require.NoError(t, err)
		fmt.Printf("round %d", i)
		assert.Equal(t, fmt.Sprintf("round %d", i), restore())
	}
}
