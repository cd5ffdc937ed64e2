package heat

import "testing"

func TestClassifyCreateErrorImageNotFound(t *testing.T) {
	err := classifyCreateError("The Image (abc-123) could not be found")
	if _, ok := err.(*AVMImageNotFoundError); !ok {
		t.Errorf("classifyCreateError() = %T, want *AVMImageNotFoundError", err)
	}
}

func TestClassifyCreateErrorFallsBackToGeneric(t *testing.T) {
	err := classifyCreateError("quota exceeded")
	if _, ok := err.(*AVMCreationError); !ok {
		t.Errorf("classifyCreateError() = %T, want *AVMCreationError", err)
	}
}

func TestErrorMessagesPropagate(t *testing.T) {
	err := NewAVMNotFoundError("stack avmorch-u-x not found")
	if err.Error() != "stack avmorch-u-x not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}
