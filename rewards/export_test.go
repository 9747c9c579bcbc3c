package rewards

import "io"

// SetCodeSource replaces the random source of the service's code issuer.
func SetCodeSource(s *Service, r io.Reader) {
	s.Coordinator.codes.rand = r
}
