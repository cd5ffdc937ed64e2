package provisioner

import "fmt"

// StackName derives the proposed Heat stack name for a create operation. Heat
// may truncate it; the actual stored value is authoritative for deletion
// (spec.md §4.4, §3 "stack_name... once set, is immutable").
func StackName(prefix, userid, avmID string) string {
	if prefix != "" {
		return fmt.Sprintf("%s-%s-%s", prefix, userid, avmID)
	}
	return fmt.Sprintf("%s-%s", userid, avmID)
}

// AMQPUser is the AMQP broker username provisioned for an AVM: its own id.
func AMQPUser(avmID string) string { return avmID }

// AdbContainer names the container running the adb bridge for an AVM.
func AdbContainer(avmID string) string { return avmID + "_adb" }

// PrjContainer names the shared project-data container for a project.
func PrjContainer(projectID string) string { return projectID + "_prjdata" }

// ComposeProject names the docker-compose project for an AVM's player group.
func ComposeProject(avmID string) string { return "avm-" + avmID }
