// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsk(t *testing.T) {
	var got *Request
	c := CompleterFunc(func(_ context.Context, req *Request) (*Response, error) {
		got = req
		return &Response{Content: "  answer \n"}, nil
	})

	text, err := Ask(context.Background(), c, "be brief", "question")
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.Equal(t, "be brief", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	assert.Equal(t, "question", got.Messages[0].Content)
}

func TestAsk_Errors(t *testing.T) {
	empty := CompleterFunc(func(context.Context, *Request) (*Response, error) {
		return &Response{Content: "   "}, nil
	})
	_, err := Ask(context.Background(), empty, "", "q")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	boom := errors.New("boom")
	failing := CompleterFunc(func(context.Context, *Request) (*Response, error) {
		return nil, boom
	})
	_, err = Ask(context.Background(), failing, "", "q")
	assert.ErrorIs(t, err, boom)
}
