// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFlow_Fail(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	first, second := errors.New("first"), errors.New("second")
	f := newAuthFlow(FlowSignIn, "")
	assert.False(f.Fail(nil))
	assert.NoError(f.Err())
	assert.True(f.Fail(first))
	assert.False(f.Fail(second))
	assert.Equal(first, f.Err())
}

func TestPipeline_Run(t *testing.T) {
	t.Parallel()

	t.Run("runs-in-order", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		var ran []string
		step := func(name string) Step {
			return Step{Name: name, Run: func(_ context.Context, f *AuthFlow) error {
				ran = append(ran, name)
				return nil
			}}
		}
		profile := &ProfileData{Name: "Alice"}
		set := Step{Name: "set", Run: func(_ context.Context, f *AuthFlow) error {
			f.setProfile(profile)
			f.setAuthState(&AuthState{Kind: AuthStateAuthorized})
			return nil
		}}
		res := NewPipeline(nil, step("a"), set, step("b")).Run(context.Background(), newAuthFlow(FlowSignIn, ""))
		assert.NoError(res.Err)
		assert.Equal([]string{"a", "b"}, ran)
		assert.Same(profile, res.Profile)
		assert.Equal(AuthStateAuthorized, res.AuthState.Kind)
	})

	t.Run("first-error-wins", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		first := errors.New("first")
		var ranAfter bool
		res := NewPipeline(nil,
			Step{Name: "fail", Run: func(context.Context, *AuthFlow) error { return first }},
			Step{Name: "after", Run: func(context.Context, *AuthFlow) error {
				ranAfter = true
				return errors.New("second")
			}},
		).Run(context.Background(), newAuthFlow(FlowSignIn, ""))
		assert.Equal(first, res.Err)
		assert.False(ranAfter)
	})

	t.Run("preexisting-error", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		f := newAuthFlow(FlowRestore, "")
		f.Fail(ErrUserCanceled)
		var ran bool
		res := NewPipeline(nil, Step{Name: "skipped", Run: func(context.Context, *AuthFlow) error {
			ran = true
			return nil
		}}).Run(context.Background(), f)
		assert.ErrorIs(res.Err, ErrUserCanceled)
		assert.False(ran)
	})
}

func Test_newRestoredFlow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tokens := &TokenSet{AccessToken: "a"}
	f := newRestoredFlow(tokens, "1")
	require.NotNil(f.AuthState())
	assert.Equal(FlowRestore, f.Kind())
	assert.Equal("1", f.EMMSupport())
	assert.Equal(AuthStateRestored, f.AuthState().Kind)
	assert.Same(tokens, f.AuthState().Tokens)
	assert.Equal("restore", f.Kind().String())
}
