package auth

import "testing"

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	encoded, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := VerifyPassword(encoded, "hunter2")
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Fatalf("expected password to verify")
	}
	ok, err = VerifyPassword(encoded, "wrong")
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Fatalf("expected wrong password to fail verification")
	}
}

func TestAuthenticateOperatorMaskCheck(t *testing.T) {
	hash, err := HashPassword("s3cr3t")
	if err != nil {
		t.Fatal(err)
	}
	ops := []OperatorRecord{{Name: "glenda", Password: hash, Mask: "*!*@admin.example"}}

	if _, err := AuthenticateOperator(ops, "glenda", "s3cr3t", "glenda!u@admin.example"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if _, err := AuthenticateOperator(ops, "glenda", "s3cr3t", "glenda!u@evil.example"); err == nil {
		t.Fatalf("expected mask mismatch to fail")
	}
	if _, err := AuthenticateOperator(ops, "glenda", "wrong", "glenda!u@admin.example"); err == nil {
		t.Fatalf("expected bad password to fail")
	}
}
