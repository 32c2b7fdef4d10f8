package auth

import (
	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/locator"
)

const (
	DefaultBaseURL   = "https://www.amazon.com.br/"
	DefaultSignInURL = "https://www.amazon.com.br/ap/signin?openid.pape.max_auth_age=0&openid.return_to=https%3A%2F%2Fwww.amazon.com.br%2F%3Fref_%3Dnav_signin&openid.identity=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0%2Fidentifier_select&openid.assoc_handle=brflex&openid.mode=checkid_setup&openid.claimed_id=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0%2Fidentifier_select&openid.ns=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0"
)

var (
	emailFields = locator.Of(
		browser.ID("ap_email"),
		browser.Name("email"),
		browser.CSS("input[type='email']"),
	)

	continueButtons = locator.Of(
		browser.ID("continue"),
		browser.ID("continue-announce"),
		browser.ID("continue-button"),
		browser.CSS("input[type='submit']"),
		browser.XPath("//input[@type='submit']"),
		browser.XPath("//span[contains(text(), 'Continuar')]/.."),
	)

	passwordFields = locator.Of(
		browser.ID("ap_password"),
		browser.Name("password"),
		browser.CSS("input[type='password']"),
	)

	signInButtons = locator.Of(
		browser.ID("signInSubmit"),
		browser.ID("auth-signin-button"),
		browser.Name("signIn"),
		browser.CSS("input[type='submit']"),
		browser.XPath("//input[@type='submit']"),
		browser.XPath("//span[contains(text(), 'Fazer login')]/.."),
		browser.XPath("//button[contains(text(), 'Entrar')]"),
	)

	loginMarkers = locator.Of(
		browser.ID("nav-link-accountList"),
		browser.ID("nav-link-accountList-nav-line-1"),
		browser.XPath("//span[contains(text(), 'Olá,')]"),
		browser.XPath("//a[contains(@href, 'account')]"),
		browser.CSS("#navbar-main"),
	)

	// Restored sessions are checked against the stricter account markers only.
	sessionMarkers = locator.Of(
		browser.ID("nav-link-accountList"),
		browser.XPath("//span[contains(text(), 'Olá,')]"),
	)
)
