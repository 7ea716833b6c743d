package memstore

type fault struct {
	err   error
	times int
}

// Fail заставляет операцию op вернуть err следующие times раз (times <= 0 — всегда).
// Имена операций совпадают с именами методов: "MarkShipped", "Reverse", "Debit" и т.д.
func (s *Store) Fail(op string, err error, times int) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = &fault{err: err, times: times}
}

// Heal снимает все сбои.
func (s *Store) Heal() {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	clear(s.faults)
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			delete(s.faults, op)
		}
	}
	return f.err
}
