package domain

// ============================================================
// Registration - Request / Response types (matches frontend API contract)
// ============================================================

// RegistrationRequest is the body for POST /v1/register/{linkId}.
// The first block is form step 1 (primary registrant), the Couple* block is step 2.
type RegistrationRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Instagram string `json:"instagram"`
	CEP       string `json:"cep"`
	City      string `json:"city"`
	Sector    string `json:"sector"`

	CoupleName      string `json:"couple_name"`
	CouplePhone     string `json:"couple_phone"`
	CoupleInstagram string `json:"couple_instagram"`
	CoupleCEP       string `json:"couple_cep"`
	CoupleCity      string `json:"couple_city"`
	CoupleSector    string `json:"couple_sector"`
}

// Result kinds.
const (
	ResultMember = "member"
	ResultFriend = "friend"
)

// RegistrationResult is returned on a successful registration.
type RegistrationResult struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Message  string `json:"message"`
	LinkID   string `json:"link_id,omitempty"`
	LinkURL  string `json:"link_url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	Warnings map[string]string `json:"warnings,omitempty"`
}

// DuplicateCandidate is the input of the duplicate scan.
type DuplicateCandidate struct {
	Phone           string
	Instagram       string
	CouplePhone     string
	CoupleInstagram string
	CampaignCode    string
	CampaignID      *string
}

// DuplicateOutcome classifies a duplicate scan.
type DuplicateOutcome string

const (
	DuplicateAllowed              DuplicateOutcome = "allowed"
	DuplicateBlockedSameCampaign  DuplicateOutcome = "blocked_same_campaign"
	DuplicateBlockedCrossCampaign DuplicateOutcome = "blocked_cross_campaign"
	// DuplicateInvalidPair means primary and partner share a phone or handle.
	DuplicateInvalidPair DuplicateOutcome = "invalid_pair"
)

// DuplicateReport is the result of the duplicate scan. An empty Errors map means allowed.
// Warnings hold collisions that do not block the registration.
type DuplicateReport struct {
	Outcome  DuplicateOutcome
	Errors   map[string]string
	Warnings map[string]string
}

// Allowed reports whether the registration may proceed.
func (r *DuplicateReport) Allowed() bool {
	return len(r.Errors) == 0
}

// LinkInfo is returned by GET /v1/links/{linkId}.
type LinkInfo struct {
	LinkID         string  `json:"link_id"`
	LinkType       string  `json:"link_type"`
	ReferrerName   string  `json:"referrer_name"`
	Campaign       string  `json:"campaign,omitempty"`
	CampaignID     *string `json:"campaign_id,omitempty"`
	CampaignName   string  `json:"campaign_name,omitempty"`
	PrimaryColor   string  `json:"primary_color,omitempty"`
	SecondaryColor string  `json:"secondary_color,omitempty"`
	URL            string  `json:"url"`
}

// CreateLinkRequest is the body for POST /v1/admin/links.
type CreateLinkRequest struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	LinkType string `json:"link_type,omitempty"`
	Campaign string `json:"campaign,omitempty"`
}

// PostalAddress is the postal lookup result.
type PostalAddress struct {
	CEP    string `json:"cep"`
	City   string `json:"city"`
	Sector string `json:"sector"`
	State  string `json:"state"`
	Street string `json:"street,omitempty"`
}

// ReportSummary is returned by GET /v1/admin/reports/summary.
type ReportSummary struct {
	Campaign      string `json:"campaign,omitempty"`
	TotalMembers  int    `json:"total_members"`
	TotalFriends  int    `json:"total_friends"`
	GreenMembers  int    `json:"green_members"`
	YellowMembers int    `json:"yellow_members"`
	RedMembers    int    `json:"red_members"`
}
