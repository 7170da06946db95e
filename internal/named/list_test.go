// Copyright 2025 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package named

import (
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

type item struct {
	name string
	val  int
}

func (i *item) EntityName() string { return i.name }

func TestList(t *testing.T) {
	t.Parallel()

	ftt.Run("With a list", t, func(t *ftt.Test) {
		l := NewList(&item{"a", 1}, &item{"b", 2}, &item{"c", 3})

		t.Run("Names keeps insertion order", func(t *ftt.Test) {
			assert.Loosely(t, l.Names(), should.Match([]string{"a", "b", "c"}))
			assert.Loosely(t, l.Len(), should.Equal(3))
		})

		t.Run("Set replaces and moves to the end", func(t *ftt.Test) {
			l.Set(&item{"a", 10})
			assert.Loosely(t, l.Names(), should.Match([]string{"b", "c", "a"}))
			got, ok := l.Get("a")
			assert.Loosely(t, ok, should.BeTrue)
			assert.Loosely(t, got.val, should.Equal(10))
		})

		t.Run("Set is idempotent", func(t *ftt.Test) {
			e := &item{"d", 4}
			l.Set(e)
			before := l.Names()
			l.Set(e)
			assert.Loosely(t, l.Names(), should.Match(before))
			assert.Loosely(t, l.Len(), should.Equal(4))
		})

		t.Run("Remove", func(t *ftt.Test) {
			l.Remove("b")
			l.Remove("missing")
			assert.Loosely(t, l.Names(), should.Match([]string{"a", "c"}))
			assert.Loosely(t, l.Has("b"), should.BeFalse)
		})

		t.Run("Get missing", func(t *ftt.Test) {
			got, ok := l.Get("zzz")
			assert.Loosely(t, ok, should.BeFalse)
			assert.Loosely(t, got, should.BeNil)
		})

		t.Run("Clear", func(t *ftt.Test) {
			l.Clear()
			assert.Loosely(t, l.Len(), should.BeZero)
			assert.Loosely(t, l.Names(), should.HaveLength(0))
		})

		t.Run("Clone is independent", func(t *ftt.Test) {
			c := l.Clone()
			c.Set(&item{"z", 0})
			assert.Loosely(t, l.Has("z"), should.BeFalse)
			assert.Loosely(t, c.Names(), should.Match([]string{"a", "b", "c", "z"}))
		})
	})
}
