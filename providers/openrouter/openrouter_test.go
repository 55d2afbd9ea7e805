package openrouter_test

import (
	"testing"

	"github.com/modelrelay/relay/internal/testutil"
	"github.com/modelrelay/relay/providers/openrouter"
)

const (
	envKey    = "OPENROUTER_API_KEY"
	testModel = "openai/gpt-4o-mini"
)

func TestOpenRouter_BasicTextGeneration(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)
	testutil.TestBasicTextGeneration(t, openrouter.New(), testModel)
}

func TestOpenRouter_ToolCalling(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)
	testutil.TestToolCalling(t, openrouter.New(), testModel)
}

func TestOpenRouter_SystemPrompt(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)
	testutil.TestSystemPrompt(t, openrouter.New(), testModel)
}

func TestOpenRouter_MultiTurn(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)
	testutil.TestMultiTurn(t, openrouter.New(), testModel)
}
