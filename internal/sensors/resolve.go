package sensors

// fieldSet collects fields in first-seen order.
type fieldSet struct {
	seen   map[string]struct{}
	fields []Field
}

func newFieldSet(capacity int) *fieldSet {
	return &fieldSet{seen: make(map[string]struct{}, capacity), fields: make([]Field, 0, capacity)}
}

func (s *fieldSet) add(f Field) {
	if f.Name == "" {
		return
	}
	if _, ok := s.seen[f.Name]; ok {
		return
	}
	s.seen[f.Name] = struct{}{}
	s.fields = append(s.fields, f)
}

// PreferRaw expands fields with their correspondences so that raw avl_io
// candidates always come before processed ones. For every input field it emits
// its raw correspondent (or the field itself when raw), then the field, then
// the remaining processed correspondents.
func PreferRaw(table Correspondence, fields []string) []Field {
	set := newFieldSet(len(fields) * 2)
	for _, name := range fields {
		field := ParseField(name)
		corr := table.Lookup(name)

		if raw, ok := firstRaw(field, corr); ok {
			set.add(raw)
		}
		set.add(field)
		for _, c := range corr {
			if !c.Raw {
				set.add(c)
			}
		}
	}
	return set.fields
}

func firstRaw(field Field, corr []Field) (Field, bool) {
	for _, c := range corr {
		if c.Raw {
			return c, true
		}
	}
	if field.Raw {
		return field, true
	}
	return Field{}, false
}

// AppendCorrespondences keeps the input order and appends each field's
// correspondences right after it.
func AppendCorrespondences(table Correspondence, fields []string) []Field {
	set := newFieldSet(len(fields) * 2)
	for _, name := range fields {
		set.add(ParseField(name))
		for _, c := range table.Lookup(name) {
			set.add(c)
		}
	}
	return set.fields
}
