package repository

// StaticPassword is handed to the storage engine wherever its API asks for a
// password.
//
// It is NOT a secret. DefaultSettings disables encryption, so the value never
// protects any data; it only satisfies the engine API. Do not treat it, or the
// password parameter it fills, as a security boundary.
const StaticPassword = "password"

func staticPassword() (string, error) {
	return StaticPassword, nil
}
