package xpc

// ArrayAppend appends child to v's Array, retaining it. The caller
// retains its own reference to child; ownership of the appended
// reference passes to the array.
func (v *Value) ArrayAppend(child *Value) error {
	if v.kind != KindArray {
		return v.wrongKind(KindArray)
	}
	v.arr = append(v.arr, child.Retain())
	return nil
}

// ArrayAt returns a borrowed reference to the element at index i. The
// caller must Retain it to keep it beyond the array's own lifetime.
func (v *Value) ArrayAt(i int) (*Value, error) {
	if v.kind != KindArray {
		return nil, v.wrongKind(KindArray)
	}
	if i < 0 || i >= len(v.arr) {
		return nil, newErrorf(Invalid, "array index %d out of range [0,%d)", i, len(v.arr))
	}
	return v.arr[i], nil
}

// ArrayLen reports the number of elements in v's Array.
func (v *Value) ArrayLen() (int, error) {
	if v.kind != KindArray {
		return 0, v.wrongKind(KindArray)
	}
	return len(v.arr), nil
}

// ArrayRemoveAt removes and releases the element at index i.
func (v *Value) ArrayRemoveAt(i int) error {
	if v.kind != KindArray {
		return v.wrongKind(KindArray)
	}
	if i < 0 || i >= len(v.arr) {
		return newErrorf(Invalid, "array index %d out of range [0,%d)", i, len(v.arr))
	}
	v.arr[i].Release()
	v.arr = append(v.arr[:i], v.arr[i+1:]...)
	return nil
}

// ArrayApply invokes fn once per element in order, passing a borrowed
// reference the callback must not retain beyond its duration. Returning
// false from fn stops the traversal early.
func (v *Value) ArrayApply(fn func(i int, val *Value) bool) error {
	if v.kind != KindArray {
		return v.wrongKind(KindArray)
	}
	for i, child := range v.arr {
		if !fn(i, child) {
			break
		}
	}
	return nil
}

func (v *Value) dictIndex(key string) int {
	for i, e := range v.dict {
		if e.key == key {
			return i
		}
	}
	return -1
}

// DictSet inserts or replaces the value for key. A new key is appended
// at the tail, preserving insertion order; setting an existing key
// replaces its value in place without disturbing that order. The
// previous value (if any) is released; child is retained.
func (v *Value) DictSet(key string, child *Value) error {
	if v.kind != KindDictionary {
		return v.wrongKind(KindDictionary)
	}
	if i := v.dictIndex(key); i >= 0 {
		v.dict[i].value.Release()
		v.dict[i].value = child.Retain()
		return nil
	}
	v.dict = append(v.dict, dictEntry{key: key, value: child.Retain()})
	return nil
}

// DictGet returns a borrowed reference to the value stored under key,
// and whether it was present.
func (v *Value) DictGet(key string) (*Value, bool, error) {
	if v.kind != KindDictionary {
		return nil, false, v.wrongKind(KindDictionary)
	}
	if i := v.dictIndex(key); i >= 0 {
		return v.dict[i].value, true, nil
	}
	return nil, false, nil
}

// DictRemove removes and releases the value stored under key, if
// present.
func (v *Value) DictRemove(key string) error {
	if v.kind != KindDictionary {
		return v.wrongKind(KindDictionary)
	}
	if i := v.dictIndex(key); i >= 0 {
		v.dict[i].value.Release()
		v.dict = append(v.dict[:i], v.dict[i+1:]...)
	}
	return nil
}

// DictLen reports the number of entries in v's Dictionary.
func (v *Value) DictLen() (int, error) {
	if v.kind != KindDictionary {
		return 0, v.wrongKind(KindDictionary)
	}
	return len(v.dict), nil
}

// DictApply invokes fn once per entry in insertion order, passing a
// borrowed reference. Returning false from fn stops the traversal
// early.
func (v *Value) DictApply(fn func(key string, val *Value) bool) error {
	if v.kind != KindDictionary {
		return v.wrongKind(KindDictionary)
	}
	for _, e := range v.dict {
		if !fn(e.key, e.value) {
			break
		}
	}
	return nil
}

// --- primitive convenience wrappers ---

func (v *Value) DictSetString(key, s string) error {
	child := NewString(s)
	err := v.DictSet(key, child)
	child.Release()
	return err
}

func (v *Value) DictGetString(key string) (string, bool, error) {
	child, ok, err := v.DictGet(key)
	if err != nil || !ok {
		return "", ok, err
	}
	s, err := child.String()
	return s, true, err
}

func (v *Value) DictSetInt64(key string, i int64) error {
	child := NewInt64(i)
	err := v.DictSet(key, child)
	child.Release()
	return err
}

func (v *Value) DictGetInt64(key string) (int64, bool, error) {
	child, ok, err := v.DictGet(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	i, err := child.Int64()
	return i, true, err
}

func (v *Value) DictSetUint64(key string, u uint64) error {
	child := NewUint64(u)
	err := v.DictSet(key, child)
	child.Release()
	return err
}

func (v *Value) DictGetUint64(key string) (uint64, bool, error) {
	child, ok, err := v.DictGet(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	u, err := child.Uint64()
	return u, true, err
}

func (v *Value) DictSetBool(key string, b bool) error {
	child := NewBool(b)
	err := v.DictSet(key, child)
	child.Release()
	return err
}

func (v *Value) DictGetBool(key string) (bool, bool, error) {
	child, ok, err := v.DictGet(key)
	if err != nil || !ok {
		return false, ok, err
	}
	b, err := child.Bool()
	return b, true, err
}

func (v *Value) DictSetDouble(key string, d float64) error {
	child := NewDouble(d)
	err := v.DictSet(key, child)
	child.Release()
	return err
}

func (v *Value) DictGetDouble(key string) (float64, bool, error) {
	child, ok, err := v.DictGet(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	d, err := child.Double()
	return d, true, err
}
