package recipient

import "slices"

// Set は重複のないユーザーIDの集合。空文字列は追加されない。
type Set map[string]struct{}

// NewSet はidsを要素とする集合を生成する。
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	s.Add(ids...)
	return s
}

// Add は要素を追加する。
func (s Set) Add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
}

// Remove は要素を取り除く。
func (s Set) Remove(id string) {
	delete(s, id)
}

// Has はidが含まれるかどうかを返す。
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len は要素数を返す。
func (s Set) Len() int {
	return len(s)
}

// Sorted は要素を昇順のスライスで返す。
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
