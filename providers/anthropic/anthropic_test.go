package anthropic_test

import (
	"testing"

	"github.com/modelrelay/relay/internal/testutil"
	"github.com/modelrelay/relay/providers/anthropic"
)

const (
	envKey    = "ANTHROPIC_API_KEY"
	testModel = "claude-haiku-4-5"
)

func TestAnthropic_BasicTextGeneration(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)
	testutil.TestBasicTextGeneration(t, anthropic.New(), testModel)
}

func TestAnthropic_ToolCalling(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)
	testutil.TestToolCalling(t, anthropic.New(), testModel)
}

func TestAnthropic_SystemPrompt(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)
	testutil.TestSystemPrompt(t, anthropic.New(), testModel)
}

func TestAnthropic_MultiTurn(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)
	testutil.TestMultiTurn(t, anthropic.New(), testModel)
}
