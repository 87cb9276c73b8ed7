package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReferrerSlot(t *testing.T) {
	u := &User{Referrer1: "a@x.com", Referrer2: "b@x.com"}

	require.Equal(t, SlotFirst, u.ReferrerSlot("a@x.com"))
	require.Equal(t, SlotSecond, u.ReferrerSlot("b@x.com"))
	require.Equal(t, SlotFirst, u.ReferrerSlot("  A@X.com "))
	require.Equal(t, SlotNone, u.ReferrerSlot("c@x.com"))
	require.Equal(t, SlotNone, u.ReferrerSlot(""))
}

func TestReferrerSlotEmptyStoredReferrer(t *testing.T) {
	u := &User{Referrer1: "", Referrer2: "b@x.com"}
	require.Equal(t, SlotNone, u.ReferrerSlot(" "))
}

func TestSlotOrdinal(t *testing.T) {
	require.Equal(t, "first", SlotFirst.Ordinal())
	require.Equal(t, "second", SlotSecond.Ordinal())
	require.Empty(t, SlotNone.Ordinal())
}

func TestFullyReferred(t *testing.T) {
	u := &User{}
	require.False(t, u.FullyReferred())
	u.Referred1 = true
	require.False(t, u.FullyReferred())
	u.Referred2 = true
	require.True(t, u.FullyReferred())
}

func TestProfilePatchApply(t *testing.T) {
	p := Profile{Company: "Acme", Phone: "123"}
	company := " Globex "
	image := "https://cdn/img.png"

	ProfilePatch{Company: &company, ProfileImage: &image}.Apply(&p)

	require.Equal(t, "Globex", p.Company)
	require.Equal(t, "123", p.Phone)
	require.Equal(t, image, p.ProfileImage)
}

func TestUserJSONHidesPasswordHash(t *testing.T) {
	u := User{ID: "u1", Email: "a@x.com", PasswordHash: "secret", Profile: Profile{Company: "Acme"}}

	raw, err := json.Marshal(u)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret")
	require.Contains(t, string(raw), `"company":"Acme"`)
}

func TestReferrerIdentifier(t *testing.T) {
	u := &User{Referrer1: "a@x.com", Referrer2: "b@x.com"}
	require.Equal(t, "a@x.com", u.ReferrerIdentifier(SlotFirst))
	require.Equal(t, "b@x.com", u.ReferrerIdentifier(SlotSecond))
	require.Empty(t, u.ReferrerIdentifier(SlotNone))
}

func TestProfileTrim(t *testing.T) {
	p := Profile{Company: "  Acme ", RepEmail2: "\trep@x.com\n"}
	p.Trim()
	require.Equal(t, "Acme", p.Company)
	require.Equal(t, "rep@x.com", p.RepEmail2)
}
