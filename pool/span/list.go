package span

// List is an intrusive doubly linked list of spans.
// A span is on at most one list at a time.
type List struct {
	first *Span
	last  *Span
	n     int
}

// Empty reports whether the list has no spans.
func (l *List) Empty() bool { return l.first == nil }

// Len returns the number of spans on the list.
func (l *List) Len() int { return l.n }

// First returns the first span, or nil.
func (l *List) First() *Span { return l.first }

// PushFront inserts s at the front of the list.
func (l *List) PushFront(s *Span) {
	if s.list != nil {
		panic("span: PushFront of span already on a list: " + s.String())
	}
	s.prev = nil
	s.next = l.first
	if l.first != nil {
		l.first.prev = s
	} else {
		l.last = s
	}
	l.first = s
	s.list = l
	l.n++
}

// PushBack inserts s at the back of the list.
func (l *List) PushBack(s *Span) {
	if s.list != nil {
		panic("span: PushBack of span already on a list: " + s.String())
	}
	s.next = nil
	s.prev = l.last
	if l.last != nil {
		l.last.next = s
	} else {
		l.first = s
	}
	l.last = s
	s.list = l
	l.n++
}

// Remove unlinks s from the list.
func (l *List) Remove(s *Span) {
	if s.list != l {
		panic("span: Remove of span not on this list: " + s.String())
	}
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.first = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.last = s.prev
	}
	s.next, s.prev, s.list = nil, nil, nil
	l.n--
}

// Next returns the span after s on its list, or nil.
func (s *Span) Next() *Span { return s.next }

// OnList reports whether s is linked into l.
func (s *Span) OnList(l *List) bool { return s.list == l }
