package orders

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Principal is the caller identity verified upstream. Zero value is anonymous.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) Anonymous() bool { return p.UserID == "" }

func (p Principal) IsAdmin() bool { return !p.Anonymous() && p.Role == RoleAdmin }

func CanView(o *Order, p Principal) bool {
	if p.Anonymous() {
		return false
	}
	return p.IsAdmin() || o.UserID == p.UserID
}

type ListFilter struct {
	UserID string // empty: every user
	Status Status // empty: every status
}

// VisibleFilter narrows f to what p may list.
func VisibleFilter(p Principal, f ListFilter) ListFilter {
	if !p.IsAdmin() {
		f.UserID = p.UserID
	}
	return f
}

// authorizeView resolves the outcome of reading an order that may not exist.
func authorizeView(o *Order, p Principal) error {
	if o == nil {
		return ErrNotFound
	}
	if p.Anonymous() {
		return ErrUnauthenticated
	}
	if !CanView(o, p) {
		return ErrForbidden
	}
	return nil
}

func authorizeMutation(p Principal) error {
	if p.Anonymous() {
		return ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
