package checkout

import "context"

// resolveCustomer finds the billing customer by email or creates one.
// Idempotent by email: repeated calls land on the same gateway customer.
func (s *Service) resolveCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error) {
	customer, err := s.gw.FindCustomer(ctx, email)
	if err != nil {
		return nil, WrapGateway(err, "customer lookup failed")
	}
	if customer != nil {
		return customer, nil
	}
	customer, err = s.gw.CreateCustomer(ctx, email, name, metadata)
	if err != nil {
		return nil, WrapGateway(err, "customer creation failed")
	}
	return customer, nil
}
