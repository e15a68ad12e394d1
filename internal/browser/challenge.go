package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// ChallengeInfo describes a human-verification gate found on the page
type ChallengeInfo struct {
	Found       bool
	Type        string
	Description string
}

const (
	ChallengeRecaptcha  = "recaptcha"
	ChallengeHCaptcha   = "hcaptcha"
	ChallengeTurnstile  = "cloudflare_turnstile"
	ChallengeCloudflare = "cloudflare_challenge"
	ChallengeGeneric    = "generic"
)

// challengeProbes are checked in order; the first hit wins
var challengeProbes = []struct {
	typ  string
	desc string
	js   string
}{
	{
		typ:  ChallengeRecaptcha,
		desc: "Google reCAPTCHA",
		js:   `document.querySelector('iframe[src*="recaptcha"], .g-recaptcha, [data-sitekey]') !== null || typeof grecaptcha !== 'undefined'`,
	},
	{
		typ:  ChallengeHCaptcha,
		desc: "hCaptcha",
		js:   `document.querySelector('iframe[src*="hcaptcha"], .h-captcha') !== null`,
	},
	{
		typ:  ChallengeTurnstile,
		desc: "Cloudflare Turnstile",
		js:   `document.querySelector('iframe[src*="challenges.cloudflare.com"], .cf-turnstile') !== null`,
	},
	{
		typ:  ChallengeCloudflare,
		desc: "Cloudflare challenge page",
		js:   `document.title.includes('Just a moment') || document.querySelector('#challenge-running, #challenge-form') !== null`,
	},
	{
		typ:  ChallengeGeneric,
		desc: "verification slider or puzzle",
		js:   `document.querySelector('[class*="captcha"], [id*="captcha"], [class*="slider-verify"], [class*="verify-slide"]') !== null`,
	},
}

// DetectChallenge checks the page for verification gates that need a human.
// The provisioning loop escalates and fails the unit when one is found.
func (s *Session) DetectChallenge() ChallengeInfo {
	for _, probe := range challengeProbes {
		var found bool
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := chromedp.Run(ctx, chromedp.Evaluate(probe.js, &found))
		cancel()
		if err == nil && found {
			return ChallengeInfo{Found: true, Type: probe.typ, Description: probe.desc}
		}
	}
	return ChallengeInfo{}
}
