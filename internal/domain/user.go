package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

type MembershipStatus string

const (
	MembershipInactive MembershipStatus = "inactive"
	MembershipActive   MembershipStatus = "active"
)

type MembershipFee string

const (
	FeeUnpaid MembershipFee = "unpaid"
	FeePaid   MembershipFee = "paid"
)

// ReferrerSlot identifies which of the two nominated referees an identifier refers to.
type ReferrerSlot int

const (
	SlotNone ReferrerSlot = iota
	SlotFirst
	SlotSecond
)

// Ordinal returns "first" or "second" for use in user-facing messages.
func (s ReferrerSlot) Ordinal() string {
	switch s {
	case SlotFirst:
		return "first"
	case SlotSecond:
		return "second"
	default:
		return ""
	}
}

// Profile holds the company information supplied at registration.
type Profile struct {
	Company       string `json:"company" form:"company"`
	BizNature     string `json:"bizNature" form:"bizNature"`
	CompanyCOIURL string `json:"companyCOIUrl" form:"companyCOIUrl"`
	Phone         string `json:"phone" form:"phone"`
	Address       string `json:"address" form:"address"`
	TradeGroup    string `json:"tradeGroup" form:"tradeGroup"`
	AnnualReturn  string `json:"annualReturn" form:"annualReturn"`
	AnnualProfit  string `json:"annualProfit" form:"annualProfit"`
	Employees     string `json:"employees" form:"employees"`

	RepName1        string `json:"companyRepName1" form:"companyRepName1"`
	RepPhone1       string `json:"companyRepPhone1" form:"companyRepPhone1"`
	RepEmail1       string `json:"companyRepEmail1" form:"companyRepEmail1"`
	RepPassportURL1 string `json:"companyRepPassportUrl1" form:"companyRepPassportUrl1"`
	RepCVURL1       string `json:"companyRepCVUrl1" form:"companyRepCVUrl1"`

	RepName2        string `json:"companyRepName2" form:"companyRepName2"`
	RepPhone2       string `json:"companyRepPhone2" form:"companyRepPhone2"`
	RepEmail2       string `json:"companyRepEmail2" form:"companyRepEmail2"`
	RepPassportURL2 string `json:"companyRepPassportUrl2" form:"companyRepPassportUrl2"`
	RepCVURL2       string `json:"companyRepCVUrl2" form:"companyRepCVUrl2"`

	ProfileImage string `json:"profileImage" form:"profileImage"`
}

// Trim strips surrounding whitespace from every profile field.
func (p *Profile) Trim() {
	for _, f := range []*string{
		&p.Company, &p.BizNature, &p.CompanyCOIURL, &p.Phone, &p.Address,
		&p.TradeGroup, &p.AnnualReturn, &p.AnnualProfit, &p.Employees,
		&p.RepName1, &p.RepPhone1, &p.RepEmail1, &p.RepPassportURL1, &p.RepCVURL1,
		&p.RepName2, &p.RepPhone2, &p.RepEmail2, &p.RepPassportURL2, &p.RepCVURL2,
		&p.ProfileImage,
	} {
		*f = strings.TrimSpace(*f)
	}
}

// ProfilePatch carries a partial profile update; nil fields are left untouched.
type ProfilePatch struct {
	Company       *string `json:"company" form:"company"`
	BizNature     *string `json:"bizNature" form:"bizNature"`
	CompanyCOIURL *string `json:"companyCOIUrl" form:"companyCOIUrl"`
	Phone         *string `json:"phone" form:"phone"`
	Address       *string `json:"address" form:"address"`
	TradeGroup    *string `json:"tradeGroup" form:"tradeGroup"`
	AnnualReturn  *string `json:"annualReturn" form:"annualReturn"`
	AnnualProfit  *string `json:"annualProfit" form:"annualProfit"`
	Employees     *string `json:"employees" form:"employees"`

	RepName1        *string `json:"companyRepName1" form:"companyRepName1"`
	RepPhone1       *string `json:"companyRepPhone1" form:"companyRepPhone1"`
	RepEmail1       *string `json:"companyRepEmail1" form:"companyRepEmail1"`
	RepPassportURL1 *string `json:"companyRepPassportUrl1" form:"companyRepPassportUrl1"`
	RepCVURL1       *string `json:"companyRepCVUrl1" form:"companyRepCVUrl1"`

	RepName2        *string `json:"companyRepName2" form:"companyRepName2"`
	RepPhone2       *string `json:"companyRepPhone2" form:"companyRepPhone2"`
	RepEmail2       *string `json:"companyRepEmail2" form:"companyRepEmail2"`
	RepPassportURL2 *string `json:"companyRepPassportUrl2" form:"companyRepPassportUrl2"`
	RepCVURL2       *string `json:"companyRepCVUrl2" form:"companyRepCVUrl2"`

	ProfileImage *string `json:"profileImage" form:"profileImage"`
}

// Apply copies every non-nil field of the patch onto p.
func (pp ProfilePatch) Apply(p *Profile) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&p.Company, pp.Company)
	set(&p.BizNature, pp.BizNature)
	set(&p.CompanyCOIURL, pp.CompanyCOIURL)
	set(&p.Phone, pp.Phone)
	set(&p.Address, pp.Address)
	set(&p.TradeGroup, pp.TradeGroup)
	set(&p.AnnualReturn, pp.AnnualReturn)
	set(&p.AnnualProfit, pp.AnnualProfit)
	set(&p.Employees, pp.Employees)
	set(&p.RepName1, pp.RepName1)
	set(&p.RepPhone1, pp.RepPhone1)
	set(&p.RepEmail1, pp.RepEmail1)
	set(&p.RepPassportURL1, pp.RepPassportURL1)
	set(&p.RepCVURL1, pp.RepCVURL1)
	set(&p.RepName2, pp.RepName2)
	set(&p.RepPhone2, pp.RepPhone2)
	set(&p.RepEmail2, pp.RepEmail2)
	set(&p.RepPassportURL2, pp.RepPassportURL2)
	set(&p.RepCVURL2, pp.RepCVURL2)
	set(&p.ProfileImage, pp.ProfileImage)
}

// User represents a registered member or membership applicant.
type User struct {
	ID           string `json:"id"`
	MembershipID string `json:"membershipId"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`

	Profile

	Role             Role             `json:"role"`
	MembershipStatus MembershipStatus `json:"membershipStatus"`
	MembershipFee    MembershipFee    `json:"membershipFee"`
	MembershipPlan   string           `json:"membershipPlan"`

	Referrer1 string `json:"referrer1"`
	Referrer2 string `json:"referrer2"`
	Referred1 bool   `json:"referred1"`
	Referred2 bool   `json:"referred2"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FullyReferred reports whether both referees have confirmed the applicant.
func (u *User) FullyReferred() bool {
	return u.Referred1 && u.Referred2
}

// ReferrerSlot resolves which referee slot refereeID occupies for this user.
func (u *User) ReferrerSlot(refereeID string) ReferrerSlot {
	id := NormalizeEmail(refereeID)
	switch {
	case id == "":
		return SlotNone
	case id == u.Referrer1:
		return SlotFirst
	case id == u.Referrer2:
		return SlotSecond
	default:
		return SlotNone
	}
}

// ReferrerIdentifier returns the stored referee identifier for slot s.
func (u *User) ReferrerIdentifier(s ReferrerSlot) string {
	switch s {
	case SlotFirst:
		return u.Referrer1
	case SlotSecond:
		return u.Referrer2
	default:
		return ""
	}
}

// IsAdmin reports whether the user holds the Admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NormalizeEmail trims and lower-cases an email-style identifier.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
