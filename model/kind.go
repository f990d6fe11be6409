package model

// Kind enumerates every entity type the object store persists. The kind name
// doubles as the storage namespace (directory or table partition).
type Kind string

const (
	KindNodeConfiguration Kind = "NodeDeviceConfiguration"
	KindDashboard         Kind = "DashboardConfiguration"
	KindVariable          Kind = "Variable"
	KindRule              Kind = "Rule"
	KindAdminUser         Kind = "AdminUser"
)

// Kinds lists all persisted kinds in a stable order.
var Kinds = []Kind{
	KindNodeConfiguration,
	KindDashboard,
	KindVariable,
	KindRule,
	KindAdminUser,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Object is implemented by every persisted entity.
type Object interface {
	ObjectID() string
	SetObjectID(id string)
	ObjectKind() Kind
}

func (n *NodeDeviceConfiguration) ObjectID() string      { return n.ID }
func (n *NodeDeviceConfiguration) SetObjectID(id string) { n.ID = id }
func (n *NodeDeviceConfiguration) ObjectKind() Kind      { return KindNodeConfiguration }

func (d *DashboardConfiguration) ObjectID() string      { return d.ID }
func (d *DashboardConfiguration) SetObjectID(id string) { d.ID = id }
func (d *DashboardConfiguration) ObjectKind() Kind      { return KindDashboard }

func (v *Variable) ObjectID() string      { return v.ID }
func (v *Variable) SetObjectID(id string) { v.ID = id }
func (v *Variable) ObjectKind() Kind      { return KindVariable }

func (r *Rule) ObjectID() string      { return r.ID }
func (r *Rule) SetObjectID(id string) { r.ID = id }
func (r *Rule) ObjectKind() Kind      { return KindRule }

func (u *AdminUser) ObjectID() string      { return u.ID }
func (u *AdminUser) SetObjectID(id string) { u.ID = id }
func (u *AdminUser) ObjectKind() Kind      { return KindAdminUser }
