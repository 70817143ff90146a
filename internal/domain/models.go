// Package domain defines the core business entities for Conectados.
// These models are independent of the record store and represent the
// canonical data structures used throughout the service.
package domain

import "time"

// Registrant status values as stored in the status column.
const (
	StatusActive   = "Ativo"
	StatusInactive = "Inativo"
)

// Link types.
const (
	LinkTypeMembers = "members"
	LinkTypeFriends = "friends"
)

// ============================================================
// Members / Friends
// ============================================================

// Member is a registrant that arrived through an administrator- or member-issued link.
// Couple* fields hold the paired registrant (the "dupla").
type Member struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Phone              string        `json:"phone"`
	Instagram          string        `json:"instagram"`
	CEP                string        `json:"cep,omitempty"`
	City               string        `json:"city"`
	Sector             string        `json:"sector"`
	Referrer           string        `json:"referrer"`
	ReferrerID         *string       `json:"referrer_id,omitempty"`
	Campaign           string        `json:"campaign,omitempty"`
	CampaignID         *string       `json:"campaign_id,omitempty"`
	Status             string        `json:"status"`
	ContractsCompleted int           `json:"contracts_completed"`
	RankingPosition    *int          `json:"ranking_position,omitempty"`
	RankingStatus      RankingStatus `json:"ranking_status"`
	IsTopPerformer     bool          `json:"is_top_performer"`
	CoupleName         string        `json:"couple_name"`
	CouplePhone        string        `json:"couple_phone"`
	CoupleInstagram    string        `json:"couple_instagram"`
	CoupleCity         string        `json:"couple_city,omitempty"`
	CoupleSector       string        `json:"couple_sector,omitempty"`
	RegistrationDate   string        `json:"registration_date,omitempty"`
	DeletedAt          *time.Time    `json:"deleted_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Friend is a registrant recruited by a member under a friends link.
// MemberID attributes the referral to its owning member.
type Friend struct {
	Member
	MemberID *string `json:"member_id,omitempty"`
}

// Registrant is the common view of a member or friend row used by the duplicate scan.
type Registrant struct {
	Kind            string // "member" or "friend"
	ID              string
	Name            string
	Phone           string
	Instagram       string
	CouplePhone     string
	CoupleInstagram string
	Campaign        string
	CampaignID      *string
}

// RegistrantFromMember builds the scan view of a member row.
func RegistrantFromMember(m Member) Registrant {
	return Registrant{
		Kind:            "member",
		ID:              m.ID,
		Name:            m.Name,
		Phone:           m.Phone,
		Instagram:       m.Instagram,
		CouplePhone:     m.CouplePhone,
		CoupleInstagram: m.CoupleInstagram,
		Campaign:        m.Campaign,
		CampaignID:      m.CampaignID,
	}
}

// RegistrantFromFriend builds the scan view of a friend row.
func RegistrantFromFriend(f Friend) Registrant {
	r := RegistrantFromMember(f.Member)
	r.Kind = "friend"
	return r
}

// ============================================================
// Campaigns / Plans
// ============================================================

// Campaign groups registrants under shared branding and a pricing plan.
type Campaign struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Code           string    `json:"code"`
	Description    string    `json:"description,omitempty"`
	PrimaryColor   string    `json:"primary_color"`
	SecondaryColor string    `json:"secondary_color"`
	PlanID         *string   `json:"plan_id,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Plan is a pricing plan. MaxMembers <= 0 means unlimited.
type Plan struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	MaxMembers int     `json:"max_members"`
	Price      float64 `json:"price"`
	IsActive   bool    `json:"is_active"`
}

// CampaignStats summarizes a campaign's capacity usage.
type CampaignStats struct {
	Campaign      Campaign `json:"campaign"`
	Plan          *Plan    `json:"plan,omitempty"`
	ActiveMembers int      `json:"active_members"`
	ActiveFriends int      `json:"active_friends"`
	MemberLimit   int      `json:"member_limit"`
	AtCapacity    bool     `json:"at_capacity"`
}

// ============================================================
// Links / Settings
// ============================================================

// UserLink binds a generating user to a referral link.
// MemberID is set for links owned by a member and carries the referrer id
// into the friends registrations made through the link.
type UserLink struct {
	ID                string     `json:"id"`
	LinkID            string     `json:"link_id"`
	UserID            string     `json:"user_id"`
	MemberID          *string    `json:"member_id,omitempty"`
	LinkType          string     `json:"link_type"`
	ReferrerName      string     `json:"referrer_name,omitempty"`
	Campaign          string     `json:"campaign,omitempty"`
	CampaignID        *string    `json:"campaign_id,omitempty"`
	ClickCount        int        `json:"click_count"`
	RegistrationCount int        `json:"registration_count"`
	IsActive          bool       `json:"is_active"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// SystemSettings is the singleton settings row.
type SystemSettings struct {
	MemberLinksType string `json:"member_links_type"`
}

// AuthUser is a login-capable account (admins and member service accounts).
type AuthUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	PasswordHash string     `json:"password_hash,omitempty"`
	Instagram    string     `json:"instagram,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Campaign     string     `json:"campaign,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Roles on auth_users.
const (
	RoleAdmin  = "admin"
	RoleMember = "membro"
)
