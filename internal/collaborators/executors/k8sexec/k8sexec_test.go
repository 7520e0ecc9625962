package k8sexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestStartBuildCreatesJob(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	adapter := New(clientset, "default")

	id, err := adapter.StartBuild(context.Background(), "registry.example.com/app:latest", map[string]string{
		"CORRELATION_ID": "incident-abc",
		"RESOURCE_TYPE":  "compute",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := clientset.BatchV1().Jobs("default").Get(context.Background(), id, metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, "registry.example.com/app:latest", job.Spec.Template.Spec.Containers[0].Image)
}

func TestStartBuildRejectsEmptyImage(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	adapter := New(clientset, "default")

	_, err := adapter.StartBuild(context.Background(), "", nil)
	require.Error(t, err)
}

func TestScaleDeploymentFailsForMissingDeployment(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	adapter := New(clientset, "default")

	err := adapter.ScaleDeployment(context.Background(), "missing-deployment", 3)
	require.Error(t, err) // fake clientset has no deployment registered
}
