package provider

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

func TestStatusFromEC2(t *testing.T) {
	tests := []struct {
		ec2  types.InstanceStateName
		want InstanceStatus
	}{
		{types.InstanceStateNamePending, StatusPending},
		{types.InstanceStateNameRunning, StatusRunning},
		{types.InstanceStateNameStopping, StatusStopping},
		{types.InstanceStateNameStopped, StatusStopped},
		{types.InstanceStateNameShuttingDown, StatusShuttingDown},
		{types.InstanceStateNameTerminated, StatusTerminated},
	}
	for _, tt := range tests {
		state := &types.InstanceState{Name: tt.ec2}
		if got := statusFromEC2(state); got != tt.want {
			t.Errorf("statusFromEC2(%s) = %s, want %s", tt.ec2, got, tt.want)
		}
	}

	if got := statusFromEC2(nil); got != StatusPending {
		t.Errorf("statusFromEC2(nil) = %s, want pending", got)
	}
}

func TestNameTag(t *testing.T) {
	inst := &types.Instance{
		Tags: []types.Tag{
			{Key: aws.String("env"), Value: aws.String("prod")},
			{Key: aws.String("Name"), Value: aws.String("web1")},
		},
	}
	if got := nameTag(inst); got != "web1" {
		t.Errorf("nameTag() = %q, want web1", got)
	}
	if got := nameTag(&types.Instance{}); got != "" {
		t.Errorf("nameTag() = %q for untagged instance, want empty", got)
	}
}

func TestAPIErrorCode(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "InvalidGroup.NotFound", Message: "no such group"}
	if got := apiErrorCode(apiErr); got != "InvalidGroup.NotFound" {
		t.Errorf("apiErrorCode() = %q, want InvalidGroup.NotFound", got)
	}
	if got := apiErrorCode(errors.New("plain")); got != "" {
		t.Errorf("apiErrorCode() = %q for non-API error, want empty", got)
	}
}

func TestDerivedBoundaryName(t *testing.T) {
	spec := InstanceSpec{Name: "web1"}
	if got := spec.DerivedBoundaryName(); got != "web1-sg" {
		t.Errorf("DerivedBoundaryName() = %q, want web1-sg", got)
	}

	spec.BoundaryName = "shared-sg"
	if got := spec.DerivedBoundaryName(); got != "shared-sg" {
		t.Errorf("DerivedBoundaryName() = %q, want shared-sg", got)
	}
}

func TestRecordLive(t *testing.T) {
	var nilRec *InstanceRecord
	if nilRec.Live() {
		t.Error("nil record must not be live")
	}
	if (&InstanceRecord{Status: StatusTerminated}).Live() {
		t.Error("terminated record must not be live")
	}
	if !(&InstanceRecord{Status: StatusStopped}).Live() {
		t.Error("stopped record must be live")
	}
}

func TestProviderErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapProviderErr("LaunchInstance", cause)
	if !errors.Is(err, cause) {
		t.Error("ProviderError must unwrap to its cause")
	}

	var provErr *ProviderError
	if !errors.As(error(err), &provErr) {
		t.Fatal("expected errors.As to match *ProviderError")
	}
	if provErr.Op != "LaunchInstance" {
		t.Errorf("op = %q, want LaunchInstance", provErr.Op)
	}
}
