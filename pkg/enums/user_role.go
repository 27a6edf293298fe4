package enums

// UserRole is carried in access tokens issued by the identity service.
type UserRole string

const (
	UserRoleBuyer  UserRole = "buyer"
	UserRoleFarmer UserRole = "farmer"
	UserRoleAdmin  UserRole = "admin"
)

var userRoles = set[UserRole]{UserRoleBuyer, UserRoleFarmer, UserRoleAdmin}

func (r UserRole) String() string { return string(r) }
func (r UserRole) IsValid() bool  { return userRoles.has(r) }
